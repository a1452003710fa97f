package resilient

import "time"

const (
	DefaultTimeout        time.Duration = 10 * time.Second
	DefaultRetryAttempts  uint          = 3
	DefaultRetryBaseDelay time.Duration = 1 * time.Second
	DefaultRetryMaxDelay  time.Duration = 5 * time.Second

	DefaultFailureThreshold int           = 5
	DefaultRecoveryTime     time.Duration = 60 * time.Second
)
