package providers

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// 配置优先级: YAML 文件 → 环境变量兜底
const (
	envAzureAPIKey   = "AZURE_OPENAI_API_KEY"
	envAzureEndpoint = "AZURE_OPENAI_ENDPOINT"
)

// LoadAzureConfig 从 YAML 文件加载 Azure 配置，敏感字段支持环境变量兜底。
func LoadAzureConfig(path string) (*AzureConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg AzureConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if cfg.APIKey == "" && cfg.ADToken == "" {
		cfg.APIKey = os.Getenv(envAzureAPIKey)
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = os.Getenv(envAzureEndpoint)
	}
	return &cfg, nil
}
