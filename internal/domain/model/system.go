package model

// SystemHardware: аппаратная ревизия в ответе /api/v1/system.
type SystemHardware struct {
	TypeID   int `json:"typeid"`
	Revision int `json:"revision"`
}

// SystemStatus: ответ /api/v1/system.
type SystemStatus struct {
	GUID     string         `json:"guid"`
	Firmware string         `json:"firmware"`
	Hostname string         `json:"hostname"`
	Name     string         `json:"name"`
	Platform string         `json:"platform"`
	Variant  string         `json:"variant"`
	Hardware SystemHardware `json:"hardware"`
}
