// Package logic holds request-level helpers shared by the HTTP layer and
// the report service: client fingerprinting and lenient date parsing.
package logic

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/avct/uasurfer"

	"github.com/patrickwarner/civicreport/internal/geoip"
)

// ClientContext describes the device and location of the caller that
// submitted a request. It is attached to analytics events.
type ClientContext struct {
	DeviceType string `json:"device_type"`
	OS         string `json:"os"`
	IsBot      bool   `json:"is_bot"`
	Country    string `json:"country"`
	IP         string `json:"ip"`
}

// ResolveClientFromUA parses a raw User-Agent string using uasurfer.
func ResolveClientFromUA(uaString string) ClientContext {
	u := uasurfer.Parse(uaString)

	var deviceType string
	switch u.DeviceType {
	case uasurfer.DeviceComputer:
		deviceType = "desktop"
	case uasurfer.DevicePhone:
		deviceType = "mobile"
	case uasurfer.DeviceTablet:
		deviceType = "tablet"
	default:
		deviceType = "other"
	}

	osName := strings.TrimPrefix(u.OS.Name.String(), "OS")
	if u.OS.Name == uasurfer.OSUnknown {
		osName = ""
	}

	return ClientContext{
		DeviceType: deviceType,
		OS:         osName,
		IsBot:      u.IsBot(),
	}
}

// ClientIP returns the originating client address, preferring the first
// X-Forwarded-For entry over RemoteAddr.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if idx := strings.Index(fwd, ","); idx != -1 {
			fwd = fwd[:idx]
		}
		return strings.TrimSpace(fwd)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// ResolveClientFromRequest combines User-Agent parsing with a GeoIP lookup
// of the client address. g may be nil.
func ResolveClientFromRequest(r *http.Request, g *geoip.GeoIP) ClientContext {
	cc := ClientContext{DeviceType: "other"}
	if ua := r.Header.Get("User-Agent"); ua != "" {
		cc = ResolveClientFromUA(ua)
	}
	cc.IP = ClientIP(r)
	if ip := net.ParseIP(cc.IP); ip != nil {
		cc.Country = g.Country(ip)
	}
	return cc
}

type clientKey struct{}

// WithClient returns a copy of ctx carrying cc.
func WithClient(ctx context.Context, cc ClientContext) context.Context {
	return context.WithValue(ctx, clientKey{}, cc)
}

// ClientFromContext returns the client context stored by WithClient. The
// zero value is returned for calls that did not come through HTTP.
func ClientFromContext(ctx context.Context) ClientContext {
	cc, _ := ctx.Value(clientKey{}).(ClientContext)
	return cc
}
