package server

import (
	"net"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// peerFields describes the process on the other end of a unix connection.
func peerFields(conn net.Conn) []zap.Field {
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		return nil
	}
	raw, err := uc.SyscallConn()
	if err != nil {
		return nil
	}

	var cred *unix.Ucred
	var credErr error
	err = raw.Control(func(fd uintptr) {
		cred, credErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if err != nil || credErr != nil {
		return nil
	}
	return []zap.Field{
		zap.Int32("peer_pid", cred.Pid),
		zap.Uint32("peer_uid", cred.Uid),
		zap.Uint32("peer_gid", cred.Gid),
	}
}
