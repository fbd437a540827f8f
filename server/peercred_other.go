//go:build !linux

package server

import (
	"net"

	"go.uber.org/zap"
)

func peerFields(net.Conn) []zap.Field { return nil }
