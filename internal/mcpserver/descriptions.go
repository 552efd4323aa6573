package mcpserver

// Tool descriptions with interpretation guidance for LLMs.

func describeP95() string {
	return `Computes the 95th percentile of a list of integers, ignoring nulls.

USE WHEN:
- Summarizing a latency or size distribution by its tail
- Checking a single batch of measurements against an SLO

INTERPRETING RESULTS:
- p95 is null when every value is null or the list is empty
- linear-interpolation (default) interpolates at rank 0.95*(n-1) and truncates toward zero
- nearest-rank-ceiling returns an actual sample value and can be higher on small samples

METRICS RETURNED:
- p95, policy, count of non-null values, count of nulls`
}

func describeP95Groups() string {
	return `Computes the 95th percentile for each named group of integers, ignoring nulls.

USE WHEN:
- Comparing tail latency across services, endpoints or hosts
- Producing one p95 per key from pre-grouped data

INTERPRETING RESULTS:
- Groups are returned sorted by key
- A group with no non-null values has a null p95
- Set summary=true to add min, max and mean for each group

METRICS RETURNED:
- Per-group: key, p95, and optionally count, nulls, min, max, mean`
}
