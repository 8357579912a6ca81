// Command quarantine is the operator CLI for the malware ingestion pipeline.
//
// It runs the pipeline services in the foreground (run, ingest, analyze,
// report) and inspects or repairs the queue directly through the locked
// queue document, so queue commands work whether or not a daemon is running.
package main
