package detections

const (
	DefaultInputSize     = 640
	DefaultConfThreshold = 0.25
	DefaultIouThreshold  = 0.45
	RetryAttempts        = 3
	RetryDelayMs         = 100
)
