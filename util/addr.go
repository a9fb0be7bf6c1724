package util

import (
	"net"
	"strconv"

	"golang.org/x/sys/unix"
)

//SplitHostPort 拆分 host:port 或 [ipv6]:port
func SplitHostPort(address string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return "", 0, ErrInvalidAddress
	}

	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 65535 {
		return "", 0, ErrInvalidAddress
	}

	if host == "" {
		return "", 0, ErrInvalidAddress
	}
	return host, port, nil
}

//ParseSockaddr address中的host是IP字面量时返回对应的sockaddr，否则返回false（需要走DNS）
func ParseSockaddr(address string) (unix.Sockaddr, bool) {
	host, port, err := SplitHostPort(address)
	if err != nil {
		return nil, false
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return nil, false
	}
	return IPToSockaddr(ip, port), true
}

//IPToSockaddr .
func IPToSockaddr(ip net.IP, port int) unix.Sockaddr {
	if ip4 := ip.To4(); ip4 != nil {
		sa := &unix.SockaddrInet4{Port: port}
		copy(sa.Addr[:], ip4)
		return sa
	}
	sa := &unix.SockaddrInet6{Port: port}
	copy(sa.Addr[:], ip.To16())
	return sa
}

//SockaddrToString sockaddr转成 ip:port
func SockaddrToString(sa unix.Sockaddr) string {
	switch addr := sa.(type) {
	case *unix.SockaddrInet4:
		return net.JoinHostPort(net.IP(addr.Addr[:]).String(), strconv.Itoa(addr.Port))
	case *unix.SockaddrInet6:
		return net.JoinHostPort(net.IP(addr.Addr[:]).String(), strconv.Itoa(addr.Port))
	}
	return ""
}

//SockaddrFamily .
func SockaddrFamily(sa unix.Sockaddr) int {
	if _, ok := sa.(*unix.SockaddrInet6); ok {
		return unix.AF_INET6
	}
	return unix.AF_INET
}
