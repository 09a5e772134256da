package globals

import "github.com/hashicorp/go-hclog"

var AppLogger = hclog.New(&hclog.LoggerOptions{
	Name:  "livechat",
	Level: hclog.LevelFromString("INFO"),
})

// Logger returns l, or the application logger when l is nil.
func Logger(l hclog.Logger, name string) hclog.Logger {
	if l == nil {
		l = AppLogger
	}
	return l.Named(name)
}
