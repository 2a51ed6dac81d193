/*
Package client is a Go client for the controller REST API.

It wraps the HTTP surface with typed methods, unwrapping the response
envelope so callers see data and errors, never status codes. The CLI is
built on it; any Go program can use it directly:

	c := client.NewClient("http://controller:9000", apiKey)
	job, err := c.Execute(ctx, &types.ExecutionRequest{
		Driver:         "ssh",
		ConnectionArgs: types.ConnectionArgs{"host": "sw1", "username": "ops"},
		Command:        types.StringPayload("show version"),
	})
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(job.JobID)

Execution is asynchronous: Execute returns a queued job, and the result
is fetched later with GetJob or delivered to a webhook named on the
request.
*/
package client
