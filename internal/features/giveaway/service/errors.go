package service

import "errors"

var (
	ErrNotFound     = errors.New("giveaway not found")
	ErrEntryClosed  = errors.New("giveaway is no longer accepting entries")
	ErrSlotNotFound = errors.New("winner slot not found")
)
