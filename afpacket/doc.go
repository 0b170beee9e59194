//go:build linux

// Package afpacket implements a zero-copy packet-ring capture and in-line
// forwarding engine on top of Linux AF_PACKET / PACKET_MMAP version 2. It
// binds one or more interfaces, negotiates kernel RX/TX rings, and exposes a
// single-threaded receive loop that hands frames to a host as borrowed
// Message values and forwards them between bridged interface pairs based on
// the host's verdict.
package afpacket
