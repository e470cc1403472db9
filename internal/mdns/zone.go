package mdns

import (
	"fmt"
	"net"
	"strings"

	"github.com/codefionn/go-ble-central/internal/logger"
)

// ServiceType is the DNS-SD service the gateway advertises.
const ServiceType = "_ble-central._tcp.local"

// GatewayZone answers mDNS queries for the gateway hostname and advertises
// the WebSocket endpoint as a DNS-SD service, so clients can find both the
// address and the port without configuration.
type GatewayZone struct {
	hostname string
	instance string
	port     uint16
	logger   *logger.Logger
	ips      []net.IP
}

// NewGatewayZone creates an mDNS zone advertising the gateway under the
// given hostname and service port.
func NewGatewayZone(hostname string, port int, log *logger.Logger) *GatewayZone {
	if hostname == "" {
		hostname = "ble-central"
	}

	// Ensure hostname ends with .local
	if !strings.HasSuffix(hostname, ".local") {
		hostname = hostname + ".local"
	}

	instance := strings.TrimSuffix(hostname, ".local") + "." + ServiceType

	zone := &GatewayZone{
		hostname: hostname,
		instance: instance,
		port:     uint16(port),
		logger:   log,
	}

	// Get local IP addresses
	zone.updateIPs()

	return zone
}

// Records implements the Zone interface
func (z *GatewayZone) Records(q Question) []Record {
	// Normalize query name
	qname := strings.ToLower(q.Name)
	hostname := strings.ToLower(z.hostname)

	z.logger.Debug("mDNS query",
		logger.String("question", qname),
		logger.String("type", dnsTypeToString(q.Type)),
	)

	var records []Record

	switch qname {
	case hostname:
		records = z.addressRecords(q.Type)
	case ServiceType:
		if q.Type == dnsTypePTR {
			records = append(records, &PTR{
				Hdr: RR_Header{
					Name:  ServiceType,
					Type:  dnsTypePTR,
					Class: 1, // IN
					TTL:   120,
				},
				Ptr: z.instance,
			})
			// Bundle the target records so clients resolve in one round trip
			records = append(records, z.serviceRecords()...)
			records = append(records, z.addressRecords(dnsTypeA)...)
		}
	case strings.ToLower(z.instance):
		if q.Type == dnsTypeSRV || q.Type == dnsTypeTXT {
			records = z.serviceRecords()
		}
	}

	if len(records) > 0 {
		z.logger.Debug("mDNS response",
			logger.String("question", qname),
			logger.Int("records", len(records)),
		)
	}

	return records
}

func (z *GatewayZone) addressRecords(qtype uint16) []Record {
	var records []Record

	switch qtype {
	case dnsTypeA:
		for _, ip := range z.ips {
			if ip.To4() != nil {
				records = append(records, &A{
					Hdr: RR_Header{
						Name:  z.hostname,
						Type:  dnsTypeA,
						Class: 1, // IN
						TTL:   120,
					},
					A: ip,
				})
			}
		}
	case dnsTypeAAAA:
		for _, ip := range z.ips {
			if ip.To4() == nil && !ip.IsLoopback() {
				records = append(records, &AAAA{
					Hdr: RR_Header{
						Name:  z.hostname,
						Type:  dnsTypeAAAA,
						Class: 1, // IN
						TTL:   120,
					},
					AAAA: ip,
				})
			}
		}
	}

	return records
}

func (z *GatewayZone) serviceRecords() []Record {
	return []Record{
		&SRV{
			Hdr: RR_Header{
				Name:  z.instance,
				Type:  dnsTypeSRV,
				Class: 1, // IN
				TTL:   120,
			},
			Priority: 0,
			Weight:   0,
			Port:     z.port,
			Target:   z.hostname,
		},
		&TXT{
			Hdr: RR_Header{
				Name:  z.instance,
				Type:  dnsTypeTXT,
				Class: 1, // IN
				TTL:   120,
			},
			Txt: []string{"path=/ws", fmt.Sprintf("port=%d", z.port)},
		},
	}
}

// UpdateIPs refreshes the list of local IP addresses
func (z *GatewayZone) UpdateIPs() {
	z.updateIPs()
}

func (z *GatewayZone) updateIPs() {
	var ips []net.IP

	interfaces, err := net.Interfaces()
	if err != nil {
		z.logger.Error("Failed to get network interfaces", logger.ErrorField(err))
		return
	}

	for _, iface := range interfaces {
		// Skip down interfaces and loopback
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			var ip net.IP
			switch v := addr.(type) {
			case *net.IPNet:
				ip = v.IP
			case *net.IPAddr:
				ip = v.IP
			}

			// Skip loopback and link-local addresses
			if ip == nil || ip.IsLoopback() || ip.IsLinkLocalUnicast() {
				continue
			}

			ips = append(ips, ip)
		}
	}

	z.ips = ips
	z.logger.Debug("Updated mDNS IP addresses", logger.Int("count", len(ips)))
}

// GetHostname returns the advertised hostname
func (z *GatewayZone) GetHostname() string {
	return z.hostname
}

// GetInstance returns the advertised DNS-SD instance name
func (z *GatewayZone) GetInstance() string {
	return z.instance
}

// GetIPs returns the current list of IP addresses
func (z *GatewayZone) GetIPs() []net.IP {
	return z.ips
}

func dnsTypeToString(dnsType uint16) string {
	switch dnsType {
	case dnsTypeA:
		return "A"
	case dnsTypeAAAA:
		return "AAAA"
	case dnsTypePTR:
		return "PTR"
	case dnsTypeTXT:
		return "TXT"
	case dnsTypeSRV:
		return "SRV"
	default:
		return "UNKNOWN"
	}
}
