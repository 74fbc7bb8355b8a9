// Package nntptest runs a scripted in-process NNTP server for tests.
package nntptest

import (
	"bufio"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"net"
	"net/textproto"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/datallboy/nzbfetch/internal/domain"
)

// CertName is the only name on the test certificate; it never matches the loopback address.
const CertName = "news.invalid"

// Failure scripts the reply to the next ARTICLE request for a message-id.
type Failure struct {
	// Drop closes the connection without replying.
	Drop bool
	// Code and Msg are sent as the status line when Drop is false.
	Code int
	Msg  string
}

type Server struct {
	t        testing.TB
	ln       net.Listener
	useTLS   bool
	roots    *x509.CertPool
	user     string
	pass     string
	greeting string

	mu          sync.Mutex
	articles    map[string][]byte
	failures    map[string][]Failure
	delays      map[string]time.Duration
	requests    map[string]int
	connections int
	dates       int
	conns       map[net.Conn]struct{}
	wg          sync.WaitGroup
}

type Option func(*Server)

func WithAuth(user, pass string) Option {
	return func(s *Server) { s.user, s.pass = user, pass }
}

func WithTLS() Option {
	return func(s *Server) { s.useTLS = true }
}

// WithGreeting replaces the "200" greeting line, e.g. to simulate a server refusing connections.
func WithGreeting(line string) Option {
	return func(s *Server) { s.greeting = line }
}

func NewServer(t testing.TB, opts ...Option) *Server {
	t.Helper()

	s := &Server{
		t:        t,
		greeting: "200 nntptest ready",
		articles: make(map[string][]byte),
		failures: make(map[string][]Failure),
		delays:   make(map[string]time.Duration),
		requests: make(map[string]int),
		conns:    make(map[net.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	if s.useTLS {
		cert, roots := selfSigned(t)
		s.roots = roots
		ln = tls.NewListener(ln, &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12})
	}
	s.ln = ln

	s.wg.Add(1)
	go s.serve()
	t.Cleanup(s.Close)
	return s
}

// Config returns a server configuration pointing at the listener.
func (s *Server) Config(id string, maxConns int) domain.ServerConfig {
	addr := s.ln.Addr().(*net.TCPAddr)
	return domain.ServerConfig{
		ID:                    id,
		Host:                  addr.IP.String(),
		Port:                  addr.Port,
		TLS:                   s.useTLS,
		Username:              s.user,
		Password:              s.pass,
		MaxConnections:        maxConns,
		ConnectTimeoutSeconds: 5,
		MaxRetries:            3,
	}
}

// RootCAs trusts the test certificate.
func (s *Server) RootCAs() *x509.CertPool { return s.roots }

// AddArticle stores the article text served for msgID (without angle brackets).
func (s *Server) AddArticle(msgID string, article []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.articles[msgID] = article
}

// Fail queues failures returned, in order, by the next ARTICLE requests for msgID.
func (s *Server) Fail(msgID string, f ...Failure) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[msgID] = append(s.failures[msgID], f...)
}

// Delay holds the reply for msgID back by d.
func (s *Server) Delay(msgID string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays[msgID] = d
}

// Requests returns how often ARTICLE was issued for msgID.
func (s *Server) Requests(msgID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[msgID]
}

// Connections returns the number of accepted connections.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connections
}

// Dates returns the number of DATE commands served.
func (s *Server) Dates() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dates
}

// DropAll closes every open client connection.
func (s *Server) DropAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		_ = c.Close()
	}
}

func (s *Server) Close() {
	_ = s.ln.Close()
	s.DropAll()
	s.wg.Wait()
}

func (s *Server) serve() {
	defer s.wg.Done()
	for {
		c, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.connections++
		s.conns[c] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(c)
			s.mu.Lock()
			delete(s.conns, c)
			s.mu.Unlock()
			_ = c.Close()
		}()
	}
}

func (s *Server) handle(c net.Conn) {
	r := textproto.NewReader(bufio.NewReader(c))
	w := bufio.NewWriter(c)
	reply := func(format string, args ...any) bool {
		fmt.Fprintf(w, format+"\r\n", args...)
		return w.Flush() == nil
	}

	if !reply("%s", s.greeting) || !strings.HasPrefix(s.greeting, "20") {
		return
	}

	authed := s.user == ""
	for {
		line, err := r.ReadLine()
		if err != nil {
			return
		}
		cmd, arg, _ := strings.Cut(line, " ")

		switch strings.ToUpper(cmd) {
		case "AUTHINFO":
			kind, val, _ := strings.Cut(arg, " ")
			switch strings.ToUpper(kind) {
			case "USER":
				if val != s.user {
					reply("481 Authentication failed")
					continue
				}
				reply("381 Password required")
			case "PASS":
				if val != s.pass {
					reply("481 Authentication failed")
					continue
				}
				authed = true
				reply("281 Authentication accepted")
			}
		case "DATE":
			s.mu.Lock()
			s.dates++
			s.mu.Unlock()
			reply("111 %s", time.Now().UTC().Format("20060102150405"))
		case "ARTICLE":
			if !authed {
				reply("480 Authentication required")
				continue
			}
			if !s.article(w, strings.Trim(arg, "<>")) {
				return
			}
		case "QUIT":
			reply("205 bye")
			return
		default:
			reply("500 unknown command")
		}
	}
}

// article writes the reply for one ARTICLE request. It returns false when the connection must close.
func (s *Server) article(w *bufio.Writer, id string) bool {
	s.mu.Lock()
	s.requests[id]++
	delay := s.delays[id]
	var failure *Failure
	if q := s.failures[id]; len(q) > 0 {
		failure = &q[0]
		s.failures[id] = q[1:]
	}
	body, ok := s.articles[id]
	s.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	if failure != nil {
		if failure.Drop {
			return false
		}
		fmt.Fprintf(w, "%d %s\r\n", failure.Code, failure.Msg)
		return w.Flush() == nil
	}

	if !ok {
		fmt.Fprintf(w, "430 No Such Article\r\n")
		return w.Flush() == nil
	}

	fmt.Fprintf(w, "220 0 <%s> article follows\r\n", id)
	dw := textproto.NewWriter(w).DotWriter()
	_, _ = dw.Write(body)
	_ = dw.Close()
	return w.Flush() == nil
}

func selfSigned(t testing.TB) (tls.Certificate, *x509.CertPool) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(time.Now().UnixNano()),
		Subject:               pkix.Name{CommonName: CertName},
		DNSNames:              []string{CertName},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse certificate: %v", err)
	}

	roots := x509.NewCertPool()
	roots.AddCert(cert)
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key, Leaf: cert}, roots
}

// Article builds a minimal article around a yEnc body.
func Article(msgID string, body []byte) []byte {
	var b strings.Builder
	b.WriteString("Message-ID: <" + msgID + ">\r\n")
	b.WriteString("Subject: test " + strconv.Quote(msgID) + " yEnc\r\n")
	b.WriteString("\r\n")
	b.Write(body)
	return []byte(b.String())
}
