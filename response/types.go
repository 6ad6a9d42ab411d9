package response

/* ========================================================================
 * Response Types - 响应类型定义
 * ======================================================================== */

// Result 标准 API 响应结构
type Result struct {
	Code int    `json:"code" example:"200"`
	Msg  string `json:"msg" example:"ok"`
	Data any    `json:"data"`
}

// PageResult 分页响应结构
type PageResult struct {
	List     any   `json:"list"`
	Total    int64 `json:"total" example:"100"`
	Page     int   `json:"page" example:"1"`
	PageSize int   `json:"page_size" example:"20"`
}
