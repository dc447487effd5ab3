package scheduler

import (
	_ "time/tzdata"

	logx "stoerbot/pkg/logx"
)

func nopLogger() logx.Logger { return logx.Nop() }
