package policy_test

import (
	"errors"
	"net"
	"sync"

	"github.com/anweddol/sesh/policy"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/renproject/phi"
	"golang.org/x/time/rate"
)

type addrConn struct {
	net.Conn
	addr net.Addr
}

func (conn addrConn) RemoteAddr() net.Addr {
	return conn.addr
}

func connFrom(ip string) net.Conn {
	return addrConn{addr: &net.TCPAddr{IP: net.ParseIP(ip), Port: 6150}}
}

func allowAll(net.Conn) (policy.Cleanup, error) {
	return nil, nil
}

func denyAll(net.Conn) (policy.Cleanup, error) {
	return nil, errors.New("denied")
}

var _ = Describe("Allow", func() {
	Context("when composing with All", func() {
		It("should pass only when every function passes", func() {
			_, err := policy.All(allowAll, allowAll)(connFrom("127.0.0.1"))
			Expect(err).ToNot(HaveOccurred())
			_, err = policy.All(allowAll, denyAll)(connFrom("127.0.0.1"))
			Expect(err).To(MatchError("denied"))
		})

		It("should stop at the first error and still clean up", func() {
			cleaned := 0
			called := false
			counting := func(net.Conn) (policy.Cleanup, error) {
				return func() { cleaned++ }, nil
			}
			never := func(net.Conn) (policy.Cleanup, error) {
				called = true
				return nil, nil
			}
			cleanup, err := policy.All(counting, denyAll, never)(connFrom("127.0.0.1"))
			Expect(err).To(HaveOccurred())
			Expect(called).To(BeFalse())
			Expect(cleanup).ToNot(BeNil())
			cleanup()
			Expect(cleaned).To(Equal(1))
		})
	})

	Context("when composing with Any", func() {
		It("should pass when at least one function passes", func() {
			_, err := policy.Any(denyAll, allowAll)(connFrom("127.0.0.1"))
			Expect(err).ToNot(HaveOccurred())
		})

		It("should join the errors when every function fails", func() {
			_, err := policy.Any(denyAll, denyAll)(connFrom("127.0.0.1"))
			Expect(err).To(MatchError("denied, denied"))
		})
	})

	Context("when limiting the number of connections", func() {
		It("should reject connections above the maximum until one is cleaned up", func() {
			max := policy.Max(2)
			first, err := max(connFrom("127.0.0.1"))
			Expect(err).ToNot(HaveOccurred())
			_, err = max(connFrom("127.0.0.1"))
			Expect(err).ToNot(HaveOccurred())
			_, err = max(connFrom("127.0.0.1"))
			Expect(err).To(Equal(policy.ErrMaxConnectionsExceeded))

			first()
			_, err = max(connFrom("127.0.0.1"))
			Expect(err).ToNot(HaveOccurred())
		})

		It("should never allow more than the maximum concurrently", func() {
			max := policy.Max(10)
			mu := new(sync.Mutex)
			allowed := 0
			phi.ForAll(100, func(i int) {
				if _, err := max(connFrom("127.0.0.1")); err == nil {
					mu.Lock()
					allowed++
					mu.Unlock()
				}
			})
			Expect(allowed).To(Equal(10))
		})

		It("should allow everything when the maximum is negative", func() {
			max := policy.Max(-1)
			for i := 0; i < 100; i++ {
				_, err := max(connFrom("127.0.0.1"))
				Expect(err).ToNot(HaveOccurred())
			}
		})
	})

	Context("when rate limiting", func() {
		It("should reject an address after its burst is used", func() {
			limit := policy.RateLimit(rate.Limit(0.001), 2, 16)
			for i := 0; i < 2; i++ {
				_, err := limit(connFrom("10.0.0.1"))
				Expect(err).ToNot(HaveOccurred())
			}
			_, err := limit(connFrom("10.0.0.1"))
			Expect(err).To(Equal(policy.ErrRateLimited))

			_, err = limit(connFrom("10.0.0.2"))
			Expect(err).ToNot(HaveOccurred())
		})

		It("should forget old addresses once the capacity is reached", func() {
			limit := policy.RateLimit(rate.Limit(0.001), 1, 4)
			_, err := limit(connFrom("10.0.0.1"))
			Expect(err).ToNot(HaveOccurred())
			for _, ip := range []string{"10.0.0.2", "10.0.0.3", "10.0.0.4", "10.0.0.5"} {
				_, err := limit(connFrom(ip))
				Expect(err).ToNot(HaveOccurred())
			}
			_, err = limit(connFrom("10.0.0.1"))
			Expect(err).ToNot(HaveOccurred())
		})

		It("should be safe for concurrent use", func() {
			limit := policy.RateLimit(rate.Limit(0.001), 1, 16)
			phi.ForAll(64, func(i int) {
				limit(connFrom("10.0.0.1"))
			})
		})
	})

	Context("when filtering networks", func() {
		It("should only pass addresses inside the networks", func() {
			allow, err := policy.Networks("127.0.0.0/8", "10.1.0.0/16")
			Expect(err).ToNot(HaveOccurred())

			_, err = allow(connFrom("127.0.0.1"))
			Expect(err).ToNot(HaveOccurred())
			_, err = allow(connFrom("10.1.2.3"))
			Expect(err).ToNot(HaveOccurred())
			_, err = allow(connFrom("10.2.0.1"))
			Expect(err).To(Equal(policy.ErrNetworkNotAllowed))
		})

		It("should reject bad networks", func() {
			_, err := policy.Networks("not a network")
			Expect(err).To(HaveOccurred())
		})
	})

	Context("when reading the remote ip", func() {
		It("should strip the port from tcp addresses", func() {
			Expect(policy.RemoteIP(connFrom("192.168.1.1"))).To(Equal("192.168.1.1"))
		})
	})
})
