package account

import (
	"fmt"
	"strconv"
	"strings"
)

// passwdEntry is one /etc/passwd line
type passwdEntry struct {
	Name  string
	Uid   int
	Gid   int
	Gecos string
	Home  string
	Shell string
}

func (e passwdEntry) String() string {
	return fmt.Sprintf("%s:x:%d:%d:%s:%s:%s", e.Name, e.Uid, e.Gid, e.Gecos, e.Home, e.Shell)
}

// groupEntry is one /etc/group line
type groupEntry struct {
	Name    string
	Gid     int
	Members []string
}

func (e groupEntry) String() string {
	return fmt.Sprintf("%s:x:%d:%s", e.Name, e.Gid, strings.Join(e.Members, ","))
}

// shadowEntry is one /etc/shadow line
type shadowEntry struct {
	Name       string
	Hash       string
	LastChange int
}

func (e shadowEntry) String() string {
	return fmt.Sprintf("%s:%s:%d:0:99999:7:::", e.Name, e.Hash, e.LastChange)
}

func parsePasswd(content []byte) []passwdEntry {
	var entries []passwdEntry
	for _, line := range strings.Split(string(content), "\n") {
		parts := strings.Split(line, ":")
		if len(parts) != 7 {
			continue
		}
		uid, err := strconv.Atoi(parts[2])
		if err != nil {
			continue
		}
		gid, err := strconv.Atoi(parts[3])
		if err != nil {
			continue
		}
		entries = append(entries, passwdEntry{
			Name:  parts[0],
			Uid:   uid,
			Gid:   gid,
			Gecos: parts[4],
			Home:  parts[5],
			Shell: parts[6],
		})
	}
	return entries
}

func parseGroup(content []byte) []groupEntry {
	var entries []groupEntry
	for _, line := range strings.Split(string(content), "\n") {
		parts := strings.Split(line, ":")
		if len(parts) != 4 {
			continue
		}
		gid, err := strconv.Atoi(parts[2])
		if err != nil {
			continue
		}
		var members []string
		if parts[3] != "" {
			members = strings.Split(parts[3], ",")
		}
		entries = append(entries, groupEntry{
			Name:    parts[0],
			Gid:     gid,
			Members: members,
		})
	}
	return entries
}

// nextFreeId returns the lowest id >= floor not taken, for uid and gid
// allocation against the base image databases.
func nextFreeId(taken map[int]bool, floor int) int {
	id := floor
	for taken[id] {
		id++
	}
	return id
}
