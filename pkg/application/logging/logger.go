package logging

type Fields map[string]interface{}

type Logger interface {
	WithField(key string, value interface{}) Logger
	WithFields(fields Fields) Logger

	Info(args ...interface{})
	Error(err error, args ...interface{})
	Warning(err error, args ...interface{})
}

type MainLogger interface {
	Logger
	FatalError(err error, args ...interface{})
}
