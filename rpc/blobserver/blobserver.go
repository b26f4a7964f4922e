package blobserver

type StoreArgs struct {
	Data     []byte
	CheckSum string
}

type StoreReply struct {
	Handle string
}

type FetchArgs struct {
	Handle string
}

type FetchReply struct {
	Data     []byte
	CheckSum string
}

type DiscardArgs struct {
	Handle string
}

type DiscardReply struct {
}
