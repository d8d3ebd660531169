package diag

import "fmt"

type Code uint16

const (
	UnknownCode Code = 0

	// Синтаксис гостевой программы
	SynInfo            Code = 2000
	SynUnexpectedToken Code = 2001
	SynEarlyError      Code = 2002

	// Выполнение
	RunInfo          Code = 3000
	RunUncaught      Code = 3001
	RunTimeout       Code = 3002
	RunStepLimit     Code = 3003
	RunStackOverflow Code = 3004
	RunCancelled     Code = 3005

	IOLoadFileError Code = 4001

	// Инструментирование
	InsInfo                Code = 5000
	InsInvalidRewrite      Code = 5001
	InsUnsupportedLanguage Code = 5002

	ObsInfo    Code = 6000
	ObsTimings Code = 6001
)

var codeDescription = map[Code]string{
	UnknownCode:            "Unknown error",
	SynInfo:                "Syntax information",
	SynUnexpectedToken:     "Syntax error",
	SynEarlyError:          "Early error",
	RunInfo:                "Run information",
	RunUncaught:            "Uncaught exception",
	RunTimeout:             "Execution timeout",
	RunStepLimit:           "Step limit exceeded",
	RunStackOverflow:       "Call stack exhausted",
	RunCancelled:           "Execution cancelled",
	IOLoadFileError:        "I/O load file error",
	InsInfo:                "Instrumentation information",
	InsInvalidRewrite:      "Instrumented program does not parse",
	InsUnsupportedLanguage: "Unsupported guest language",
	ObsInfo:                "Observability information",
	ObsTimings:             "Pipeline timings",
}

func (c Code) ID() string {
	switch ic := int(c); {
	case ic >= 2000 && ic < 3000:
		return fmt.Sprintf("SYN%04d", ic)
	case ic >= 3000 && ic < 4000:
		return fmt.Sprintf("RUN%04d", ic)
	case ic >= 4000 && ic < 5000:
		return fmt.Sprintf("IO%04d", ic)
	case ic >= 5000 && ic < 6000:
		return fmt.Sprintf("INS%04d", ic)
	case ic >= 6000 && ic < 7000:
		return fmt.Sprintf("OBS%04d", ic)
	}
	return "E0000"
}

func (c Code) Title() string {
	desc, ok := codeDescription[c]
	if !ok {
		return codeDescription[UnknownCode]
	}
	return desc
}

func (c Code) String() string {
	return fmt.Sprintf("[%s]: %s", c.ID(), c.Title())
}
