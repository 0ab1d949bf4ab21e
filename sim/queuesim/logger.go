package queuesim

import "github.com/sirupsen/logrus"

var (
	log = logrus.WithField("module", "queuesim")
)
