// 版权所有 2024 LLMGate Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 azure 实现 Azure OpenAI 的 Provider 适配，覆盖 chat（阻塞/流式）、
embeddings、图像生成、语音转写与 assistants 线程编排。

# 认证

支持三种凭据形态（见 llm.Credential）：

  - 静态 API Key，经 api-key 请求头透传
  - Bearer token，经 Authorization 请求头透传
  - 联合身份引用（"oidc/" 前缀），先向 Azure AD 换取访问令牌；
    换取结果按上游有效期缓存（进程内 + 可选 Redis 二级）

ctx 中的凭据覆盖（llm.WithCredentialOverride）优先于配置。

# 版本协商

Azure 的 api-version（YYYY-MM-DD[-suffix]）决定参数可用性。
发出请求前，白名单之外的参数被静默忽略；目标版本不支持的参数按
drop_params 配置丢弃或整体拒绝（见 NegotiateChatParams）。

# 路由

Endpoint 有三种识别形态：普通资源端点（组装 deployment 路径）、
已含 /openai/deployments 的完整 base URL、以及 Cloudflare AI Gateway
域名（模型编码进 URL 路径，负载中的 model 置空）。
*/
package azure
