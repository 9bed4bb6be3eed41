package model

// Material: материал, известный движку. Только GUID и версия.
type Material struct {
	GUID    string `json:"guid"`
	Version int    `json:"version"`
}
