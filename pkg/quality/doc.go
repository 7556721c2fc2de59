/*
Package quality keeps per-address measurement statistics and the address
blacklist.

Every measurement taken by the ranker is fed to Store.Record, or to
Store.RecordTimeout when it ran out of time, which update the counters and a bounded sample history for that address. The history
drives two things:

  - the composite score, 40·successRate + 40·speed + 20·stability, where
    speed falls linearly to zero at Weights.SpeedCeilingMs and stability is
    1/(1+variance/Weights.VarianceScale)
  - the blacklist Policy: trailing consecutive timeouts (refused or
    rejected connections do not count), slow samples in
    the recent window, or latency variance above a threshold

Blacklisted addresses are skipped by candidate gathering and BestAddress
but still accumulate history if measured.
*/
package quality
