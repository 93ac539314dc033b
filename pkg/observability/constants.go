package observability

const (
	AttrServiceName      = "service.name"
	AttrServiceVersion   = "service.version"
	AttrAgentName        = "agent.name"
	AttrAgentLLM         = "agent.llm"
	AttrToolName         = "tool.name"
	AttrLLMModel         = "llm.model"
	AttrLLMTokensInput   = "llm.tokens.input"
	AttrLLMTokensOutput  = "llm.tokens.output"
	AttrLLMFinishReason  = "llm.finish_reason"
	AttrErrorType        = "error.type"
	AttrHTTPMethod       = "http.method"
	AttrHTTPPath         = "http.path"
	AttrHTTPStatusCode   = "http.status_code"
	AttrHTTPResponseSize = "http.response_size"
	AttrEventID          = "docpilot.event_id"
	AttrPayload          = "docpilot.payload"

	SpanAgentRun      = "agent.run"
	SpanLLMCall       = "agent.llm_call"
	SpanToolExecution = "agent.tool_execution"
	SpanMemorySearch  = "agent.memory_search"
	SpanHTTPRequest   = "http.request"

	DefaultServiceName = "docpilot"
	DefaultMetricsPath = "/metrics"
	DefaultNamespace   = "docpilot"

	DefaultSamplingRate = 1.0
	DefaultOTLPEndpoint = "localhost:4317"
)
