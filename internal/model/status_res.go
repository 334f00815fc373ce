package model

// StatusRes summarises the registration store for the status endpoint.
type StatusRes struct {
	Status          string `json:"status"`
	ActiveDeviceNum int    `json:"activeDeviceNum"`
	AllDeviceNum    int    `json:"allDeviceNum"`
}
