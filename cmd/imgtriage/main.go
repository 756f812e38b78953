// Package main implements imgtriage, which identifies the operating system on
// a disk image and writes a triage report of its identity, users and artifacts.
package main

func main() {
	execute()
}
