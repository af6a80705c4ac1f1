// 版权所有 2024 LLMGate Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 llm 提供统一的大语言模型接入层的核心模型：Provider 抽象、
请求/响应类型、凭据表示、错误分类与调用观测钩子。

# 概述

本包目标是屏蔽不同模型服务商在接口、鉴权、错误语义和流式协议上的差异，
对上层路由暴露一致的请求与响应模型。具体服务商的适配实现位于
providers/ 子包（如 providers/azure）。

# 核心接口

  - [Provider]：LLM 提供者接口，提供 Completion / Stream / HealthCheck /
    Name / SupportsNativeFunctionCalling
  - [CallObserver]：调用前后观测钩子，PreCall 严格先于 PostCall
  - [Credential]：单次请求的认证输入（静态 Key / Bearer / 联合身份引用）

# 错误语义

所有适配器把上游失败映射为 [Error]，携带错误码、HTTP 状态与可重试标记；
错误不会被吞掉，始终到达调用方。
*/
package llm
