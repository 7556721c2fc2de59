/*
Package dns queries explicit resolvers for the A records of the monitored
hostnames.

Unlike the system resolver, Client.Lookup targets one server at a time so
the candidate aggregator can compare what different public resolvers
return. Every failure (timeout, SERVFAIL, malformed reply) yields an empty
slice; callers never see an error. Answers are filtered through Usable,
which drops loopback, link-local, multicast, unspecified and non-IPv4
addresses, the usual signatures of a poisoned reply.

Non-empty answers are kept in an expirable LRU keyed by host and server so
repeated cycles inside the TTL do not hit the network.

	c := dns.NewClient(dns.WithTimeout(2 * time.Second))
	for _, server := range dns.DefaultServers {
		addrs := c.Lookup(ctx, "github.com", server)
		...
	}
*/
package dns
