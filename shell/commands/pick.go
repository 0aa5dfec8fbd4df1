package commands

import (
	"fmt"

	"github.com/abiosoft/ishell"

	"github.com/cpu/acmerenew/model"
	"github.com/cpu/acmerenew/renewal"
)

// FindJob returns the job at index, or when index is negative the job
// covering the hostname in args.
func FindJob(jobs []renewal.Job, args []string, index int) (renewal.Job, error) {
	if len(jobs) == 0 {
		return renewal.Job{}, fmt.Errorf("no certificate configurations loaded")
	}
	if index >= 0 {
		if index >= len(jobs) {
			return renewal.Job{}, fmt.Errorf("index %d out of range, %d configuration(s) loaded", index, len(jobs))
		}
		return usable(jobs[index])
	}
	if len(args) != 1 {
		return renewal.Job{}, fmt.Errorf("expected one hostname argument, got %d", len(args))
	}
	for _, job := range jobs {
		if job.Err == nil && model.ContainsHostName(job.Renewal.HostNames, args[0]) {
			return job, nil
		}
	}
	return renewal.Job{}, fmt.Errorf("no configuration covers %q", args[0])
}

// PickJob finds the job selected by args or index, or asks the user to pick
// one when neither is given.
func PickJob(c *ishell.Context, args []string, index int) (renewal.Job, error) {
	jobs := GetJobs(c)
	if index >= 0 || len(args) > 0 || len(jobs) == 0 {
		return FindJob(jobs, args, index)
	}

	jobList := make([]string, len(jobs))
	for i, job := range jobs {
		jobList[i] = DescribeJob(i, job)
	}
	choice := c.MultiChoice(jobList, "Select a certificate configuration")
	if choice < 0 {
		return renewal.Job{}, fmt.Errorf("no configuration selected")
	}
	return usable(jobs[choice])
}

func usable(job renewal.Job) (renewal.Job, error) {
	if job.Err != nil {
		return renewal.Job{}, fmt.Errorf("configuration %s is invalid: %w", job.Source, job.Err)
	}
	return job, nil
}
