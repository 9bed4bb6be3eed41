package model

import "time"

// JobMeta: идентичность загруженного файла, хранится рядом с ним
// в *.meta.json. По ней задание получает прежний uuid после рестарта.
type JobMeta struct {
	// UUID: идентификатор задания, выданный при загрузке
	UUID string `json:"uuid"`

	// Filename: имя файла на диске (после разрешения коллизий)
	Filename string `json:"filename"`

	// OriginalFilename: имя, объявленное клиентом в multipart
	OriginalFilename string `json:"original_filename"`

	// Owner: поле owner из формы загрузки (может быть пустым)
	Owner string `json:"owner,omitempty"`

	// CreatedAt: момент приёма файла (UTC)
	CreatedAt time.Time `json:"created_at"`
}
