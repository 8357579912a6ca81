package config

const (
	defaultConfigPath         = "~/.config/quarantine/config.toml"
	defaultStateDir           = "~/.local/share/quarantine/state"
	defaultStagingDir         = "~/.local/share/quarantine/staging"
	defaultReportsDir         = "~/.local/share/quarantine/reports"
	defaultLogDir             = "~/.local/share/quarantine/logs"
	defaultWatchDir           = "~/Downloads"
	defaultDebounceMS         = 2000
	defaultSettleIntervalMS   = 1000
	defaultRescanInterval     = 300
	defaultUnpackMaxMembers   = 100
	defaultUnpackMaxMemberMB  = 64
	defaultUnpackMaxTotalMB   = 512
	defaultWorkers            = 2
	defaultTimeout            = 120
	defaultRetryLimit         = 3
	defaultPollIntervalMS     = 1000
	defaultErrorRetryInterval = 5
	defaultExecutor           = ExecutorProcess
	defaultDetectorCommand    = "quarantine-detector"
	defaultOutputFormat       = OutputJSON
	defaultNobodyID           = 65534
	defaultMaxOutputBytes     = 16 << 20
	defaultContainerRuntime   = "docker"
	defaultContainerImage     = "quarantine/detector:latest"
	defaultReportWorkers      = 1
	defaultLockTimeoutMS      = 5000
	defaultAPIBind            = "127.0.0.1:7488"
	defaultLogFormat          = "console"
	defaultLogLevel           = "info"
	defaultLogRetentionDays   = 30
)

// Executor kinds.
const (
	ExecutorProcess   = "process"
	ExecutorContainer = "container"
)

// Detector output formats.
const (
	OutputJSON    = "json"
	OutputMsgpack = "msgpack"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir:   defaultStateDir,
			StagingDir: defaultStagingDir,
			ReportsDir: defaultReportsDir,
			LogDir:     defaultLogDir,
		},
		Ingest: Ingest{
			WatchDir:         defaultWatchDir,
			Recursive:        true,
			DebounceMS:       defaultDebounceMS,
			SettleIntervalMS: defaultSettleIntervalMS,
			RescanInterval:   defaultRescanInterval,
			Unpack: Unpack{
				Enabled:     true,
				MaxMembers:  defaultUnpackMaxMembers,
				MaxMemberMB: defaultUnpackMaxMemberMB,
				MaxTotalMB:  defaultUnpackMaxTotalMB,
			},
		},
		Dispatch: Dispatch{
			Workers:            defaultWorkers,
			Timeout:            defaultTimeout,
			RetryLimit:         defaultRetryLimit,
			PollIntervalMS:     defaultPollIntervalMS,
			ErrorRetryInterval: defaultErrorRetryInterval,
		},
		Analysis: Analysis{
			Executor:         defaultExecutor,
			DetectorCommand:  defaultDetectorCommand,
			DetectorArgs:     []string{"--format", "json", "{path}"},
			OutputFormat:     defaultOutputFormat,
			NoNetwork:        true,
			RunAsUID:         defaultNobodyID,
			RunAsGID:         defaultNobodyID,
			MaxOutputBytes:   defaultMaxOutputBytes,
			ContainerRuntime: defaultContainerRuntime,
			ContainerImage:   defaultContainerImage,
		},
		Report: Report{
			Workers: defaultReportWorkers,
		},
		Queue: Queue{
			LockTimeoutMS: defaultLockTimeoutMS,
		},
		API: API{
			Bind: defaultAPIBind,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
