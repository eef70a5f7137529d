package domain

// TargetKind selects the delivery path of a rendered document.
type TargetKind string

const (
	TargetNone  TargetKind = "none"
	TargetLocal TargetKind = "local"
	TargetCloud TargetKind = "cloudApi"
)

// IsValid reports whether k is a known target kind.
func (k TargetKind) IsValid() bool {
	switch k {
	case TargetNone, TargetLocal, TargetCloud:
		return true
	}
	return false
}

// PrintTarget describes where a document should be printed. PrinterName is
// used by local targets, PrinterID by cloud targets.
type PrintTarget struct {
	Kind        TargetKind `json:"kind"`
	PrinterName string     `json:"printerName,omitempty"`
	PrinterID   string     `json:"printerId,omitempty"`
}

func NoTarget() PrintTarget { return PrintTarget{Kind: TargetNone} }

func LocalTarget(printerName string) PrintTarget {
	return PrintTarget{Kind: TargetLocal, PrinterName: printerName}
}

func CloudTarget(printerID string) PrintTarget {
	return PrintTarget{Kind: TargetCloud, PrinterID: printerID}
}

// PrintResult is the outcome of a dispatch. It is always returned as a value.
type PrintResult struct {
	Success bool    `json:"success"`
	Message string  `json:"message"`
	JobID   *string `json:"jobId"`
}

// PrintSucceeded builds a successful result. An empty jobID is reported as null.
func PrintSucceeded(message, jobID string) PrintResult {
	res := PrintResult{Success: true, Message: message}
	if jobID != "" {
		res.JobID = &jobID
	}
	return res
}

// PrintFailed builds a failed result.
func PrintFailed(message string) PrintResult {
	return PrintResult{Success: false, Message: message}
}
