// Package klog is the kernel-wide logging facility. It wraps logrus the
// way gopheros' kfmt wraps an io.Writer: a small, subsystem-tagged façade
// so every package logs through one consistently-formatted sink instead of
// ad hoc fmt.Printf calls.
package klog

import (
	"os"

	"github.com/sirupsen/logrus"
)

var root = newRoot()

func newRoot() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   false,
		DisableColors:   false,
		TimestampFormat: "15:04:05.000000",
	})
	l.SetLevel(logrus.InfoLevel)
	return l
}

// SetDebug toggles verbose kernel tracing, equivalent to the bdev_debug /
// vm_debug booleans scattered through the teacher code, but switchable at
// boot instead of compiled in.
func SetDebug(on bool) {
	if on {
		root.SetLevel(logrus.DebugLevel)
	} else {
		root.SetLevel(logrus.InfoLevel)
	}
}

// Subsys returns a logger tagged with the owning subsystem, e.g.
// klog.Subsys("vm") or klog.Subsys("cache").
func Subsys(name string) *logrus.Entry {
	return root.WithField("subsys", name)
}
