//go:build linux

package main

import (
	"context"
	"encoding/binary"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kallidar/afpacket-bridge/afpacket"
	"github.com/kallidar/afpacket-bridge/ratelimit"
)

func fatalIf(err error, msgf string, a ...any) {
	if err != nil {
		fmt.Fprintf(os.Stderr, msgf+": %v\n", append(a, err)...)
		os.Exit(1)
	}
}

// buildUDPPacket fills buf with an Ethernet/IPv4/UDP frame carrying seq as
// its 4-byte payload, and returns the frame's total length.
func buildUDPPacket(
	buf []byte,
	srcMAC, dstMAC net.HardwareAddr,
	srcIP, dstIP net.IP,
	srcPort, dstPort uint16,
	seq uint32,
) int {
	const ethLen, ipLen, udpLen, payloadLen = 14, 20, 8, 4
	total := ethLen + ipLen + udpLen + payloadLen

	copy(buf[0:6], dstMAC)
	copy(buf[6:12], srcMAC)
	buf[12], buf[13] = 0x08, 0x00

	ip := buf[ethLen:]
	ip[0] = 0x45
	binary.BigEndian.PutUint16(ip[2:], uint16(ipLen+udpLen+payloadLen))
	ip[8], ip[9] = 64, 17
	copy(ip[12:16], srcIP.To4())
	copy(ip[16:20], dstIP.To4())
	binary.BigEndian.PutUint16(ip[10:], ipChecksum(ip[:20]))

	udp := ip[20:]
	binary.BigEndian.PutUint16(udp[0:], srcPort)
	binary.BigEndian.PutUint16(udp[2:], dstPort)
	binary.BigEndian.PutUint16(udp[4:], uint16(udpLen+payloadLen))
	binary.BigEndian.PutUint32(udp[8:], seq)

	return total
}

func ipChecksum(buf []byte) uint16 {
	var sum uint32
	for len(buf) > 1 {
		sum += uint32(binary.BigEndian.Uint16(buf))
		buf = buf[2:]
	}
	if len(buf) > 0 {
		sum += uint32(buf[0]) << 8
	}
	for sum>>16 != 0 {
		sum = (sum & 0xffff) + (sum >> 16)
	}
	return ^uint16(sum)
}

func main() {
	fDevice := flag.String("d", "", "device spec, e.g. 'eth0:eth1' for a bridge pair")
	fSrcIface := flag.String("i", "", "interface to inject on (must be one half of -d)")
	fDstMAC := flag.String("dst-mac", "", "destination MAC")
	fSrcIP := flag.String("src-ip", "10.0.1.2", "source IP")
	fDstIP := flag.String("dst-ip", "10.0.2.2", "destination IP")
	fCount := flag.Uint64("n", 1000, "packet count")
	fRatePPS := flag.Uint64("r", 0, "rate limit in packets/sec, 0 = unlimited")
	flag.Parse()

	if *fDevice == "" || *fSrcIface == "" || *fDstMAC == "" {
		fmt.Fprintln(os.Stderr, "usage: replay -d <device-spec> -i <iface> -dst-mac <mac>")
		os.Exit(1)
	}

	ctx, err := afpacket.Initialize(afpacket.Config{
		DeviceSpec: *fDevice,
		Snaplen:    2048,
		TimeoutMS:  1000,
	}, afpacket.HostCapabilities{})
	fatalIf(err, "initializing context")
	fatalIf(ctx.Start(), "starting context")
	defer ctx.Shutdown()

	ingress, err := ctx.DeviceIndex(*fSrcIface)
	fatalIf(err, "resolving %q", *fSrcIface)

	iface, err := net.InterfaceByName(*fSrcIface)
	fatalIf(err, "reading local interface %q", *fSrcIface)
	srcMAC := iface.HardwareAddr

	dstMAC, err := net.ParseMAC(*fDstMAC)
	fatalIf(err, "parsing dst-mac")
	srcIP := net.ParseIP(*fSrcIP)
	dstIP := net.ParseIP(*fDstIP)

	cancelCtx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() { <-sig; cancel() }()

	limiter := ratelimit.New(*fRatePPS)
	buf := make([]byte, 1500)

	start := time.Now()
	var sent uint64
	for sent < *fCount {
		if cancelCtx.Err() != nil {
			break
		}
		n := buildUDPPacket(buf, srcMAC, dstMAC, srcIP, dstIP, 5000, 6000, uint32(sent))
		err := ctx.Inject(afpacket.PacketHeader{IngressIndex: ingress}, buf[:n], true)
		if err != nil {
			fmt.Fprintf(os.Stderr, "inject: %v\n", err)
		}
		sent++
		if err := limiter.Wait(cancelCtx, 1); err != nil {
			break
		}
	}

	fmt.Fprintf(os.Stderr, "sent %d packets in %s\n", sent, time.Since(start))
}
