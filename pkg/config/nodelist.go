package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const (
	nodeListFile   = "nodelist"
	nodeListHeader = "nodelist"
)

// NodeListPath returns <dataDir>/nodelist.
func NodeListPath(dataDir string) string {
	return filepath.Join(dataDir, nodeListFile)
}

// ReadNodeList reads the node ids listed in <dataDir>/nodelist.
func ReadNodeList(dataDir string) ([]string, error) {
	f, err := os.Open(NodeListPath(dataDir))
	if err != nil {
		return nil, fmt.Errorf("node list: %w", err)
	}
	defer f.Close()
	return ParseNodeList(f)
}

// ParseNodeList reads one node id per line. A "nodelist" header line,
// blank lines and surrounding whitespace are ignored.
func ParseNodeList(r io.Reader) ([]string, error) {
	var nodes []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		node := strings.TrimSpace(sc.Text())
		if node == "" || node == nodeListHeader {
			continue
		}
		nodes = append(nodes, node)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("node list: %w", err)
	}
	return nodes, nil
}
