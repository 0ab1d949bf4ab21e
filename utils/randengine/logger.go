package randengine

import "github.com/sirupsen/logrus"

var (
	log = logrus.WithField("module", "randengine")
)
