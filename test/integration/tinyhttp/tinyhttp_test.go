/*
Copyright 2025 The Kubernetes Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package tinyhttp

import (
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"

	"github.com/tinyhttp/tinyhttp/pkg/admission"
	"github.com/tinyhttp/tinyhttp/test/integration"
)

func send(raw string) (*http.Response, string) {
	out, err := integration.SendRaw(addr, raw, defaultTimeout)
	gomega.Expect(err).NotTo(gomega.HaveOccurred())
	resp, body, err := integration.ParseResponse(out)
	gomega.Expect(err).NotTo(gomega.HaveOccurred())
	return resp, body
}

func expectDrained() {
	gomega.Eventually(func() uint64 { return heap.Stats().Used }, defaultTimeout).Should(gomega.BeZero())
	gomega.Eventually(srv.Controller().NumClients, defaultTimeout).Should(gomega.BeZero())
}

var _ = ginkgo.Describe("tinyhttp server", func() {
	ginkgo.When("serving single requests", func() {
		ginkgo.It("should answer registered routes", func() {
			resp, body := send(integration.Get("/hello"))
			gomega.Expect(resp.StatusCode).To(gomega.Equal(http.StatusOK))
			gomega.Expect(body).To(gomega.Equal("hello\n"))
			gomega.Expect(resp.Header.Get("Connection")).To(gomega.Equal("close"))
		})

		ginkgo.It("should apply rewrites", func() {
			_, body := send(integration.Get("/"))
			gomega.Expect(body).To(gomega.Equal("hello\n"))
		})

		ginkgo.It("should echo request bodies", func() {
			resp, body := send("POST /echo HTTP/1.1\r\nHost: tinyhttp\r\nContent-Length: 5\r\n\r\nabcde")
			gomega.Expect(resp.StatusCode).To(gomega.Equal(http.StatusOK))
			gomega.Expect(body).To(gomega.Equal("abcde"))
		})

		ginkgo.It("should answer unknown paths with 404", func() {
			resp, _ := send(integration.Get("/nowhere"))
			gomega.Expect(resp.StatusCode).To(gomega.Equal(http.StatusNotFound))
		})

		ginkgo.It("should list itself in the status dump", func() {
			_, body := send(integration.Get("/status"))
			gomega.Expect(body).To(gomega.HavePrefix("Web server status:\n- Request "))
			gomega.Expect(body).To(gomega.ContainSubstring("state ACTIVE"))
		})

		ginkgo.AfterEach(expectDrained)
	})

	ginkgo.When("many clients arrive at once", func() {
		ginkgo.It("should answer every client with a full response or a 503", func() {
			const clients = 40
			var wg sync.WaitGroup
			results := make(chan string, clients)
			for i := range clients {
				wg.Add(1)
				go func() {
					defer wg.Done()
					defer ginkgo.GinkgoRecover()
					out, err := integration.SendRaw(addr, integration.Get("/large/"+strings.Repeat("x", i%8)), defaultTimeout)
					gomega.Expect(err).NotTo(gomega.HaveOccurred())
					results <- out
				}()
			}
			wg.Wait()
			close(results)

			served := 0
			for out := range results {
				if out == string(admission.RejectResponse()) {
					continue
				}
				resp, body, err := integration.ParseResponse(out)
				gomega.Expect(err).NotTo(gomega.HaveOccurred())
				gomega.Expect(resp.StatusCode).To(gomega.Equal(http.StatusOK))
				gomega.Expect(body).To(gomega.HaveLen(48 << 10))
				served++
			}
			gomega.Expect(served).To(gomega.BeNumerically(">", 0))
			expectDrained()
		})
	})

	ginkgo.When("the limits file changes", ginkgo.Ordered, func() {
		ginkgo.AfterAll(func() {
			gomega.Expect(os.WriteFile(limitsPath, []byte("maxQueued: 32\nmaxParallel: 2\nrequestHeapBytes: 8192\n"), 0o644)).To(gomega.Succeed())
			gomega.Eventually(srv.Controller().Limits, defaultTimeout).Should(gomega.Equal(initialLimits))
		})

		ginkgo.It("should apply the new limits", func() {
			gomega.Expect(os.WriteFile(limitsPath, []byte("maxQueued: 1\nmaxParallel: 1\n"), 0o644)).To(gomega.Succeed())
			gomega.Eventually(srv.Controller().Limits, defaultTimeout).Should(gomega.Equal(admission.Limits{MaxQueued: 1, MaxParallel: 1}))
		})

		ginkgo.It("should keep the limits when the file is invalid", func() {
			gomega.Expect(os.WriteFile(limitsPath, []byte("maxQueued: -4\n"), 0o644)).To(gomega.Succeed())
			gomega.Consistently(srv.Controller().Limits, "1s").Should(gomega.Equal(admission.Limits{MaxQueued: 1, MaxParallel: 1}))
		})

		ginkgo.It("should reject connections beyond the queue limit", func() {
			slow := make(chan string, 1)
			go func() {
				defer ginkgo.GinkgoRecover()
				out, err := integration.SendRaw(addr, integration.Get("/slow"), defaultTimeout)
				gomega.Expect(err).NotTo(gomega.HaveOccurred())
				slow <- out
			}()
			gomega.Eventually(srv.Controller().ActiveCount, defaultTimeout).Should(gomega.Equal(1))

			out, err := integration.SendRaw(addr, integration.Get("/hello"), defaultTimeout)
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(out).To(gomega.Equal(string(admission.RejectResponse())))

			close(release)
			var first string
			gomega.Eventually(slow, defaultTimeout).Should(gomega.Receive(&first))
			resp, body, err := integration.ParseResponse(first)
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(resp.StatusCode).To(gomega.Equal(http.StatusOK))
			gomega.Expect(body).To(gomega.Equal("slow\n"))
			expectDrained()
		})
	})
})
