// Package logging provides structured logging for research sessions.
//
// Each run writes JSON lines to <session dir>/debug.log through a
// [RotatingWriter]. Entries carry session_id, phase and task_id fields
// attached with [Logger.WithSession], [Logger.WithPhase] and
// [Logger.WithTask], which is what [FilterLogs] keys on when `ralph logs`
// reads them back.
//
//	logger, err := logging.NewLogger(sessionDir, logging.LevelInfo)
//	if err != nil {
//		return err
//	}
//	defer logger.Close()
//
//	log := logger.WithSession(sess.ID).WithPhase("execution")
//	log.Info("task dispatched", "kind", "data")
//
// Child loggers share the parent's file; closing any of them closes it.
package logging
