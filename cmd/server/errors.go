package main

import "errors"

var (
	errRedisRequired       = errors.New("NOTIFY_DRIVER=redis requires REDIS_ADDR")
	errSendGridKeyRequired = errors.New("NOTIFY_DRIVER=sendgrid requires SENDGRID_API_KEY")
	errUnknownNotifyDriver = errors.New("unknown NOTIFY_DRIVER")
)
