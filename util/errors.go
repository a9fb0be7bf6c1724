package util

import "errors"

var ErrLoopNotInit = errors.New("event loop not initialized")
var ErrLoopStopped = errors.New("event loop stopped")
var ErrWatcherNotInit = errors.New("watcher not initialized")
var ErrInvalidAddress = errors.New("invalid address")
var ErrNotConnected = errors.New("connection not connected")
var ErrFrameTooLarge = errors.New("frame length exceed limit")
var ErrFrameTooSmall = errors.New("frame length below limit")
var ErrResolveFailed = errors.New("dns resolve failed")
var ErrConnectTimeout = errors.New("connect timeout")
var ErrNotIncoming = errors.New("close delay only valid for incoming connection")
var ErrShortPing = errors.New("ping record too short")
var ErrInvalidFrameLimits = errors.New("invalid frame limits")
