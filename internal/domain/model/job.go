package model

import "time"

// JobStatus: статус задания печати в словаре протокола.
type JobStatus string

const (
	JobQueued        JobStatus = "queued"
	JobPrePrint      JobStatus = "pre_print"
	JobPrinting      JobStatus = "printing"
	JobPausing       JobStatus = "pausing"
	JobPaused        JobStatus = "paused"
	JobResuming      JobStatus = "resuming"
	JobPostPrint     JobStatus = "post_print"
	JobWaitCleanup   JobStatus = "wait_cleanup"
	JobSentToPrinter JobStatus = "sent_to_printer"
	JobFinished      JobStatus = "finished"
	JobAborting      JobStatus = "aborting"
	JobAborted       JobStatus = "aborted"
)

// TimeLayout: формат created_at, микросекунды и суффикс Z.
const TimeLayout = "2006-01-02T15:04:05.000000Z"

// FormatTime форматирует время в UTC для полей created_at.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ConfigurationChange: изменение конфигурации, требуемое перед печатью.
type ConfigurationChange struct {
	TypeOfChange string `json:"type_of_change"`
	Index        int    `json:"index"`
	TargetID     string `json:"target_id"`
	OriginID     string `json:"origin_id"`
	TargetName   string `json:"target_name,omitempty"`
	OriginName   string `json:"origin_name,omitempty"`
}

// PrintJob: задание печати в форме ClusterPrintJobStatus.
//
// UUID стабилен между проходами сверки, позиция в очереди может меняться.
// Name: basename исходного файла, по нему задание сопоставляется
// с очередью движка.
type PrintJob struct {
	CreatedAt                    string                  `json:"created_at"`
	Force                        bool                    `json:"force"`
	MachineVariant               string                  `json:"machine_variant"`
	Name                         string                  `json:"name"`
	Started                      bool                    `json:"started"`
	Status                       JobStatus               `json:"status"`
	TimeTotal                    int                     `json:"time_total"`
	TimeElapsed                  int                     `json:"time_elapsed"`
	UUID                         string                  `json:"uuid"`
	Configuration                []ExtruderConfiguration `json:"configuration"`
	Constraints                  []string                `json:"constraints"`
	ConfigurationChangesRequired []ConfigurationChange   `json:"configuration_changes_required"`
	Owner                        string                  `json:"owner,omitempty"`
	AssignedTo                   string                  `json:"assigned_to,omitempty"`
	PrinterUUID                  string                  `json:"printer_uuid,omitempty"`
	BuildPlate                   *BuildPlate             `json:"build_plate,omitempty"`
	CompatibleMachineFamilies    []string                `json:"compatible_machine_families,omitempty"`
	ImpedimentsToPrinting        []string                `json:"impediments_to_printing,omitempty"`
	DeletedAt                    string                  `json:"deleted_at,omitempty"`
	PrintedOnUUID                string                  `json:"printed_on_uuid,omitempty"`
	LastSeen                     *float64                `json:"last_seen,omitempty"`
	NetworkErrorCount            *int                    `json:"network_error_count,omitempty"`
}

// BuildPlate: тип рабочего стола.
type BuildPlate struct {
	Type string `json:"type"`
}

// Clone возвращает глубокую копию задания.
func (j *PrintJob) Clone() PrintJob {
	out := *j
	out.Configuration = cloneConfiguration(j.Configuration)
	out.Constraints = append([]string{}, j.Constraints...)
	out.ConfigurationChangesRequired = append([]ConfigurationChange{}, j.ConfigurationChangesRequired...)
	if j.CompatibleMachineFamilies != nil {
		out.CompatibleMachineFamilies = append([]string{}, j.CompatibleMachineFamilies...)
	}
	if j.ImpedimentsToPrinting != nil {
		out.ImpedimentsToPrinting = append([]string{}, j.ImpedimentsToPrinting...)
	}
	return out
}
