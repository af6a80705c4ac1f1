package azure

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/BaSui01/llmgate/llm"
)

// apiVersion 是拆分后的 Azure API 版本号（YYYY-MM-DD[-suffix]）。
//
// 三个分量按字面字符串逐段比较，不做数值解析。历史上所有已发布的
// 版本分量都是定宽零填充的，字符串序与日期序一致；这个约定被刻意
// 保留。若上游某天发布非定宽分量（如 "2024-6-01"），比较结果会
// 偏离日期序，届时需要同步调整。
type apiVersion struct {
	year  string
	month string
	day   string
}

// parseAPIVersion 把原始版本串拆成三个分量，后缀（如 -preview）丢弃。
// 不足三段是配置错误，在任何网络调用之前报出。
func parseAPIVersion(raw string) (apiVersion, error) {
	parts := strings.SplitN(raw, "-", 4)
	if len(parts) < 3 {
		return apiVersion{}, &llm.Error{
			Code:       llm.ErrInvalidConfig,
			Message:    fmt.Sprintf("invalid api_version %q: expected YYYY-MM-DD with optional suffix", raw),
			HTTPStatus: http.StatusUnprocessableEntity,
			Provider:   providerName,
		}
	}
	return apiVersion{year: parts[0], month: parts[1], day: parts[2]}, nil
}

// before 报告 v 是否早于给定日期（逐段字符串比较）。
func (v apiVersion) before(year, month, day string) bool {
	if v.year != year {
		return v.year < year
	}
	if v.month != month {
		return v.month < month
	}
	return v.day < day
}

func (v apiVersion) String() string {
	return v.year + "-" + v.month + "-" + v.day
}
