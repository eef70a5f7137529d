// Package domain contains the core business concepts for the invoice printer:
// the invoice document, money normalization, print targets and print results.
// Keep this package free of transport (HTTP) and infrastructure (Chrome, OS
// spooler, cloud print) concerns.
package domain
