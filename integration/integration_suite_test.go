// Package integration contains end-to-end tests for Faultline.
// They drive the HTTP API in process against the in-memory stores and
// verify the complete flow from capture to stats and alerts.
package integration

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestIntegration(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Faultline Integration Suite")
}
