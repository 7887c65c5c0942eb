// Package id adapts the shared nanoid helpers to the IDGenerator port.
package id

import (
	sharedid "github.com/khromalabs/ainara-sub000/shared/id"
)

type Generator struct{}

func New() *Generator {
	return &Generator{}
}

func (g *Generator) NewMessageID() string {
	return sharedid.NewMessage()
}

func (g *Generator) NewMemoryID() string {
	return sharedid.NewMemory()
}
