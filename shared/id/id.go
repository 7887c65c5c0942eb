// Package id provides ID generation helpers used across services.
package id

import (
	nanoid "github.com/matoous/go-nanoid/v2"
)

const DefaultLength = 21

const (
	PrefixContext = "ctx"
	PrefixMessage = "msg"
	PrefixMemory  = "mem"
	PrefixSkill   = "skill"
	PrefixTurn    = "turn"
	PrefixAudio   = "aud"
)

func New(prefix string) string {
	id, err := nanoid.New(DefaultLength)
	if err != nil {
		panic("nanoid generation failed: " + err.Error())
	}
	return prefix + "_" + id
}

func NewWithLength(prefix string, length int) string {
	id, err := nanoid.New(length)
	if err != nil {
		panic("nanoid generation failed: " + err.Error())
	}
	return prefix + "_" + id
}

func NewContext() string { return New(PrefixContext) }
func NewMessage() string { return New(PrefixMessage) }
func NewMemory() string  { return New(PrefixMemory) }
func NewTurn() string    { return New(PrefixTurn) }
func NewAudio() string   { return New(PrefixAudio) }
