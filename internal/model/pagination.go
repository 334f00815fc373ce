package model

// DispatchLogPage is one page of audit entries, newest first.
type DispatchLogPage struct {
	Data     []*DispatchLogEntry `json:"data"`
	Total    int                 `json:"total"`
	Pages    int                 `json:"pages"`
	PageNum  int                 `json:"pageNum"`
	PageSize int                 `json:"pageSize"`
}
