package memory_test

import (
	"testing"

	"github.com/kaushalicodelabs/erp-leave/leave"
	"github.com/kaushalicodelabs/erp-leave/leave/leavetest"
	"github.com/kaushalicodelabs/erp-leave/quota"
	"github.com/kaushalicodelabs/erp-leave/quota/quotatest"
	"github.com/kaushalicodelabs/erp-leave/store/memory"
)

func TestMemoryStore_BalanceContract(t *testing.T) {
	quotatest.RunStoreContract(t, func(t *testing.T) quota.Store { return memory.New() })
}

func TestMemoryStore_RequestContract(t *testing.T) {
	leavetest.RunRequestStoreContract(t, func(t *testing.T) leave.RequestStore { return memory.New() })
}
