// Пакет model: доменные модели эмулятора Cura Connect.
// Структуры сериализуются в JSON ровно в той форме, которую ожидает
// клиент (snake_case ключи кластерного API).
package model

// PrinterState: общее состояние принтера в кластерном API.
type PrinterState string

const (
	PrinterIdle        PrinterState = "idle"
	PrinterPrinting    PrinterState = "printing"
	PrinterError       PrinterState = "error"
	PrinterMaintenance PrinterState = "maintenance"
	PrinterBooting     PrinterState = "booting"
)

// DefaultMachineVariant: вариант машины, под который маскируется принтер.
const DefaultMachineVariant = "Ultimaker 3"

// MaterialConfiguration: материал, загруженный в экструдер.
type MaterialConfiguration struct {
	GUID     string `json:"guid"`
	Brand    string `json:"brand"`
	Color    string `json:"color"`
	Material string `json:"material"`
}

// ExtruderConfiguration: конфигурация одного экструдера.
// ExtruderIndex стабилен и начинается с нуля.
type ExtruderConfiguration struct {
	ExtruderIndex int                    `json:"extruder_index"`
	Material      *MaterialConfiguration `json:"material,omitempty"`
	PrintCoreID   string                 `json:"print_core_id,omitempty"`
}

// PrinterStatus: единственный принтер кластера.
// Пересчитывается при каждом опросе состояния движка и не удаляется
// до завершения процесса.
type PrinterStatus struct {
	Enabled         bool                    `json:"enabled"`
	FirmwareVersion string                  `json:"firmware_version"`
	FriendlyName    string                  `json:"friendly_name"`
	IPAddress       string                  `json:"ip_address"`
	MachineVariant  string                  `json:"machine_variant"`
	Status          PrinterState            `json:"status"`
	UniqueName      string                  `json:"unique_name"`
	UUID            string                  `json:"uuid"`
	Configuration   []ExtruderConfiguration `json:"configuration"`
}

// Clone возвращает глубокую копию статуса (для отдачи наружу без гонок).
func (p *PrinterStatus) Clone() PrinterStatus {
	out := *p
	out.Configuration = cloneConfiguration(p.Configuration)
	return out
}

func cloneConfiguration(src []ExtruderConfiguration) []ExtruderConfiguration {
	out := make([]ExtruderConfiguration, len(src))
	for i, ec := range src {
		out[i] = ec
		if ec.Material != nil {
			m := *ec.Material
			out[i].Material = &m
		}
	}
	return out
}
