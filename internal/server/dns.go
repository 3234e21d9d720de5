package server

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"
	"go.uber.org/zap"

	"github.com/HsinTsao/sec-toolkit/internal/capture"
	"github.com/HsinTsao/sec-toolkit/internal/logging"
	"github.com/HsinTsao/sec-toolkit/internal/registry"
)

// DNSServer answers queries under the capture domain and records a
// DNS interaction for every query that carries a known token. Blind
// payloads that cannot make an HTTP request (SSRF filters, XXE without
// response) still surface through the resolver path.
type DNSServer struct {
	Registry  *registry.Registry
	Recorder  *capture.Recorder
	Domain    string
	PublicIP  string // A record answer for the domain and its subdomains
	Logger    *zap.Logger
	udpServer *dns.Server
	tcpServer *dns.Server
}

// Start begins listening for DNS queries on the given UDP and TCP ports.
func (s *DNSServer) Start(udpPort, tcpPort int) error {
	handler := dns.HandlerFunc(s.handleDNS)

	s.udpServer = &dns.Server{
		Addr:    fmt.Sprintf(":%d", udpPort),
		Net:     "udp",
		Handler: handler,
	}

	s.tcpServer = &dns.Server{
		Addr:    fmt.Sprintf(":%d", tcpPort),
		Net:     "tcp",
		Handler: handler,
	}

	udpErrCh := make(chan error, 1)
	tcpErrCh := make(chan error, 1)

	go func() {
		s.Logger.Info("starting dns server", logging.Net("udp"), logging.Port(udpPort))
		if err := s.udpServer.ListenAndServe(); err != nil {
			udpErrCh <- err
		}
		close(udpErrCh)
	}()

	go func() {
		s.Logger.Info("starting dns server", logging.Net("tcp"), logging.Port(tcpPort))
		if err := s.tcpServer.ListenAndServe(); err != nil {
			tcpErrCh <- err
		}
		close(tcpErrCh)
	}()

	timeout := time.After(100 * time.Millisecond)
	for i := 0; i < 2; i++ {
		select {
		case err := <-udpErrCh:
			if err != nil {
				return fmt.Errorf("UDP DNS server failed to start: %w", err)
			}
		case err := <-tcpErrCh:
			if err != nil {
				return fmt.Errorf("TCP DNS server failed to start: %w", err)
			}
		case <-timeout:
			return nil
		}
	}

	return nil
}

// Shutdown gracefully stops the DNS servers.
func (s *DNSServer) Shutdown(ctx context.Context) {
	if s.udpServer != nil {
		if err := s.udpServer.ShutdownContext(ctx); err != nil {
			s.Logger.Warn("dns udp shutdown error", zap.Error(err))
		}
	}
	if s.tcpServer != nil {
		if err := s.tcpServer.ShutdownContext(ctx); err != nil {
			s.Logger.Warn("dns tcp shutdown error", zap.Error(err))
		}
	}
}

func (s *DNSServer) handleDNS(w dns.ResponseWriter, r *dns.Msg) {
	m := new(dns.Msg)
	m.SetReply(r)
	m.Authoritative = true

	for _, q := range r.Question {
		qname := strings.ToLower(strings.TrimSuffix(q.Name, "."))

		if q.Qtype == dns.TypeNS && qname == s.Domain {
			m.Answer = append(m.Answer, &dns.NS{
				Hdr: dns.RR_Header{Name: q.Name, Rrtype: dns.TypeNS, Class: dns.ClassINET, Ttl: 300},
				Ns:  "ns1." + s.Domain + ".",
			})
			continue
		}

		if qname == s.Domain || qname == "ns1."+s.Domain {
			if q.Qtype == dns.TypeA && s.PublicIP != "" {
				m.Answer = append(m.Answer, s.aRecord(q.Name))
			}
			continue
		}

		code := extractTokenFromQName(qname, s.Domain)
		if code == "" {
			m.Rcode = dns.RcodeNameError
			continue
		}

		tok, err := s.Registry.Resolve(code)
		if err != nil {
			s.Logger.Error("resolve token failed", logging.Token(code), zap.Error(err))
		}
		if tok == nil {
			m.Rcode = dns.RcodeNameError
			continue
		}

		s.Recorder.RecordDNS(tok, qname, dns.TypeToString[q.Qtype], w.RemoteAddr().String())

		// Answer token lookups so the HTTP follow-up resolves too.
		if q.Qtype == dns.TypeA && s.PublicIP != "" {
			m.Answer = append(m.Answer, s.aRecord(q.Name))
		}
	}

	if err := w.WriteMsg(m); err != nil {
		s.Logger.Debug("failed to write DNS response", zap.Error(err))
	}
}

func (s *DNSServer) aRecord(name string) dns.RR {
	return &dns.A{
		Hdr: dns.RR_Header{Name: name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 300},
		A:   net.ParseIP(s.PublicIP),
	}
}

// extractTokenFromQName pulls the token from a query name: the label
// directly under the capture domain, so exfil payloads can prepend
// arbitrary data labels (data.<token>.<domain>).
func extractTokenFromQName(qname, domain string) string {
	domain = strings.ToLower(domain)

	if qname == domain || !strings.HasSuffix(qname, "."+domain) {
		return ""
	}

	sub := strings.TrimSuffix(qname, "."+domain)
	parts := strings.Split(sub, ".")
	return parts[len(parts)-1]
}
