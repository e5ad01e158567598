package config

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
)

// Participant is one entry of the static participant set.
type Participant struct {
	Name string
	Host string
	Port int
}

// Addr returns host:port.
func (p Participant) Addr() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

// ParseParticipants reads a participants file: one "name host port" entry
// per line. Blank lines, '#' comments and lines with fewer than three
// fields are skipped.
func ParseParticipants(r io.Reader) ([]Participant, error) {
	var participants []Participant

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = strings.TrimSpace(line[:i])
		}

		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}

		port, err := parsePort(fields[2])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		participants = append(participants, Participant{
			Name: fields[0],
			Host: fields[1],
			Port: port,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return participants, nil
}

// LoadParticipants reads the participants file at path.
func LoadParticipants(path string) ([]Participant, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open participants file: %w", err)
	}
	defer f.Close()

	participants, err := ParseParticipants(f)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return participants, nil
}

// ParseParticipantList parses a comma-separated list of participants in the
// format: "name1=host1:port1,name2=host2:port2"
func ParseParticipantList(s string) ([]Participant, error) {
	if s == "" {
		return []Participant{}, nil
	}

	parts := strings.Split(s, ",")
	participants := make([]Participant, 0, len(parts))

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("invalid participant format: %s (expected name=host:port)", part)
		}

		name := strings.TrimSpace(kv[0])
		addr := strings.TrimSpace(kv[1])
		if name == "" || addr == "" {
			return nil, fmt.Errorf("participant name and address cannot be empty: %s", part)
		}

		host, portStr, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, fmt.Errorf("invalid participant address %s: %w", addr, err)
		}
		port, err := parsePort(portStr)
		if err != nil {
			return nil, err
		}

		participants = append(participants, Participant{
			Name: name,
			Host: host,
			Port: port,
		})
	}

	return participants, nil
}

func parsePort(s string) (int, error) {
	port, err := strconv.Atoi(s)
	if err != nil || port <= 0 || port > 65535 {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	return port, nil
}
