/*
Package ldap provides a directory protocol client runtime.

It turns operation requests (bind, add, compare, delete, modify, modify DN
and search) into reliably executed exchanges against one of several
directory server endpoints. The wire protocol is supplied by a Provider;
the runtime never encodes or decodes protocol messages itself.

# Architecture Overview

  - SRVDiscovery: builds the endpoint URL list from DNS SRV records
  - ConnectionStrategy: orders the endpoints of a whitespace-separated URL
  - ConnectionFactory: opens connections, first successful endpoint wins
  - Operation: executes one request with retry, backoff and reconnect
  - SearchOperation: assembles search items through handler chains into a
    SearchResult, following paged results cookies and consulting a Cache
  - ControlProcessor: translates controls to and from provider controls
  - OperationWorker and ParallelSearch: fan requests out concurrently
  - BlockingPool: a bounded ConnectionPool used by pooled parallel search

# Failure Handling

A *ConnectionError means no endpoint could be opened and is never retried.
A *OperationError is raised by the provider on an open connection and is
always retried while the connection's RetryPolicy allows it. Before each
retry the session is closed, the engine waits

	Wait                       after the first failed attempt
	Wait * Backoff * attempt   afterwards, when Backoff > 0

and a new session is opened through the factory.

# Logging

Logging uses terraform-plugin-log subsystems carried on the context. Call
NewLoggingContext to register them:

	ctx = ldap.NewLoggingContext(ctx)
*/
package ldap
