// Package logging provides structured logging using uber/zap.
//
// Two modes are supported:
//   - Production: JSON output for machine parsing
//   - Development: colored console output
//
// Services never reach for a global logger. They receive a *zap.Logger at
// construction, usually obtained with Logger.Component:
//
//	logger := logging.NewDefault()
//	formLog := logger.Component("form-mgr")
//	formLog.Info("form added", zap.Int64("form_id", id))
package logging
