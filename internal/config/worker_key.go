package config

type WorkerKeyStruct struct {
	CertificateRequestsQueue string
}

var WorkerKey = &WorkerKeyStruct{
	CertificateRequestsQueue: "certificate_requests_queue",
}
